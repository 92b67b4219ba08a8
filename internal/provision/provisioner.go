// Package provision crea o resuelve idempotentemente la cuenta y el perfil
// para una identidad de TikTok ya autenticada.
package provision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/framedrop/authbridge/internal/identity"
	tokens "github.com/framedrop/authbridge/internal/security/token"
	"github.com/framedrop/authbridge/internal/store/core"
	"github.com/framedrop/authbridge/internal/util"
)

// ProvisioningError: el alta de cuenta o perfil falló por algo distinto a
// "ya existe".
type ProvisioningError struct{ Err error }

func (e *ProvisioningError) Error() string { return fmt.Sprintf("provision: %v", e.Err) }
func (e *ProvisioningError) Unwrap() error { return e.Err }

// SignInError: la autenticación con la credencial derivada falló después de
// asegurar la cuenta. Fatal para el request.
type SignInError struct{ Err error }

func (e *SignInError) Error() string { return fmt.Sprintf("provision: sign-in: %v", e.Err) }
func (e *SignInError) Unwrap() error { return e.Err }

// Request es todo lo que el provisioner necesita de la fase previa del flujo.
type Request struct {
	Credentials       identity.Credentials
	PreferredUsername string

	// DisplayName/AvatarURL vienen del userinfo del proveedor; pueden ser
	// nil si el fetch falló (no fatal).
	DisplayName *string
	AvatarURL   *string
}

func (r Request) metadata() map[string]any {
	m := map[string]any{"provider": "tiktok"}
	if r.DisplayName != nil {
		m["display_name"] = *r.DisplayName
	}
	if r.AvatarURL != nil {
		m["avatar_url"] = *r.AvatarURL
	}
	return m
}

// Result es la salida de un provisioning exitoso.
type Result struct {
	AccountID       string
	Session         *core.Session
	ProfileComplete bool
}

type Provisioner struct {
	accounts core.AccountStore
	profiles core.ProfileStore
	log      *zap.Logger
}

func New(accounts core.AccountStore, profiles core.ProfileStore, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{accounts: accounts, profiles: profiles, log: log}
}

// Provision ejecuta la secuencia create → sign-in → metadata → profile.
// Es idempotente: repetirla con la misma identidad converge al mismo estado.
// Dos invocaciones concurrentes convergen vía el conflict del store, sin
// locks de aplicación.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	// 1) alta de cuenta; "ya existe" es el camino feliz del segundo login
	_, err := p.accounts.Create(ctx, req.Credentials.Email, req.Credentials.Secret, req.metadata())
	switch {
	case err == nil:
	case errors.Is(err, core.ErrConflict):
		p.log.Debug("account already exists", zap.String("email", util.MaskEmail(req.Credentials.Email)))
	default:
		return nil, &ProvisioningError{Err: err}
	}

	// 2) sign-in con la credencial derivada
	sess, err := p.accounts.SignIn(ctx, req.Credentials.Email, req.Credentials.Secret)
	if err != nil {
		return nil, &SignInError{Err: err}
	}
	accountID := sess.AccountID
	if accountID == "" {
		return nil, &SignInError{Err: errors.New("session without account id")}
	}

	// 3) refrescar metadata con lo último del proveedor; nunca fatal
	if err := p.accounts.UpdateMetadata(ctx, accountID, req.metadata()); err != nil {
		p.log.Warn("metadata update failed", zap.String("account_id", accountID), zap.Error(err))
	}

	// 4) resolver la fila de perfil
	complete, err := p.resolveProfile(ctx, accountID, req)
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}

	return &Result{AccountID: accountID, Session: sess, ProfileComplete: complete}, nil
}

func (p *Provisioner) resolveProfile(ctx context.Context, accountID string, req Request) (bool, error) {
	prof, err := p.profiles.Get(ctx, accountID)
	if errors.Is(err, core.ErrNotFound) {
		return p.insertProfile(ctx, accountID, req)
	}
	if err != nil {
		return false, err
	}
	return p.fillProfile(ctx, prof, req)
}

func (p *Provisioner) insertProfile(ctx context.Context, accountID string, req Request) (bool, error) {
	prof := &core.Profile{
		AccountID: accountID,
		Username:  &req.PreferredUsername,
		AvatarURL: req.AvatarURL,
	}
	err := p.profiles.Insert(ctx, prof)
	if err == nil {
		return prof.Complete(), nil
	}
	if !errors.Is(err, core.ErrConflict) {
		return false, err
	}

	// conflict: o perdimos la carrera del username, o un double-submit ya
	// insertó la fila de esta cuenta. Releer decide.
	if existing, gerr := p.profiles.Get(ctx, accountID); gerr == nil {
		return p.fillProfile(ctx, existing, req)
	}

	fallback := "user_" + tokens.RandomHex(8)
	p.log.Info("username race lost, retrying with fallback",
		zap.String("account_id", accountID), zap.String("fallback", fallback))
	prof.Username = &fallback
	if err := p.profiles.Insert(ctx, prof); err != nil {
		return false, err
	}
	return prof.Complete(), nil
}

// fillProfile completa campos faltantes de una fila existente. Un username
// ya asignado jamás se pisa; el avatar solo se actualiza si el proveedor
// trajo uno.
func (p *Provisioner) fillProfile(ctx context.Context, prof *core.Profile, req Request) (bool, error) {
	if prof.Username == nil || *prof.Username == "" {
		prof.Username = &req.PreferredUsername
		if req.AvatarURL != nil {
			prof.AvatarURL = req.AvatarURL
		}
		err := p.profiles.Update(ctx, prof)
		if errors.Is(err, core.ErrConflict) {
			fallback := "user_" + tokens.RandomHex(8)
			prof.Username = &fallback
			err = p.profiles.Update(ctx, prof)
		}
		if err != nil {
			return false, err
		}
		return prof.Complete(), nil
	}

	if req.AvatarURL != nil && *req.AvatarURL != "" {
		prof.AvatarURL = req.AvatarURL
		if err := p.profiles.Update(ctx, prof); err != nil {
			return false, err
		}
	}
	return prof.Complete(), nil
}
