// bridgectl: herramientas de operación del bridge. Todo corre local, sin
// tocar el servicio: descifrar states para debug, chequear configuración,
// generar pares PKCE.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/framedrop/authbridge/internal/config"
	"github.com/framedrop/authbridge/internal/security/pkce"
	"github.com/framedrop/authbridge/internal/security/statebox"
	"github.com/framedrop/authbridge/internal/username"
)

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func main() {
	var (
		serverSecret = envOr("AUTHBRIDGE_SERVER_SECRET", "")
		configPath   = envOr("AUTHBRIDGE_CONFIG", "")
	)

	root := &cobra.Command{
		Use:          "bridgectl",
		Short:        "herramientas de operación para el sign-in bridge",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverSecret, "server-secret", serverSecret, "secreto del servidor (env AUTHBRIDGE_SERVER_SECRET)")
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "ruta al YAML de configuración (env AUTHBRIDGE_CONFIG)")

	// ─────────────── state ───────────────

	stateCmd := &cobra.Command{Use: "state", Short: "inspección de state tokens"}

	var maxAge time.Duration
	decodeCmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "descifra un state y muestra su payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if serverSecret == "" {
				return fmt.Errorf("falta --server-secret (o env AUTHBRIDGE_SERVER_SECRET)")
			}
			p, err := statebox.New(serverSecret).Decode(args[0])
			if err != nil {
				return fmt.Errorf("token inválido o secreto incorrecto: %w", err)
			}
			printJSON(map[string]any{
				"created_at": p.CreatedAt,
				"nonce":      p.Nonce,
				"age":        time.Since(p.CreatedAt).Round(time.Second).String(),
				"expired":    p.Expired(maxAge, time.Now().UTC()),
			})
			return nil
		},
	}
	decodeCmd.Flags().DurationVar(&maxAge, "max-age", 5*time.Minute, "TTL contra el que evaluar expiración")

	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "genera un state fresco (para probar el callback a mano)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if serverSecret == "" {
				return fmt.Errorf("falta --server-secret (o env AUTHBRIDGE_SERVER_SECRET)")
			}
			pair, err := pkce.New()
			if err != nil {
				return err
			}
			tok, err := statebox.New(serverSecret).Encode(statebox.Payload{
				CodeVerifier: pair.Verifier,
				CreatedAt:    time.Now().UTC(),
				Nonce:        "bridgectl",
			})
			if err != nil {
				return err
			}
			printJSON(map[string]string{"state": tok, "code_challenge": pair.Challenge})
			return nil
		},
	}
	stateCmd.AddCommand(decodeCmd, mintCmd)

	// ─────────────── pkce ───────────────

	pkceCmd := &cobra.Command{
		Use:   "pkce",
		Short: "genera un par verifier/challenge",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			pair, err := pkce.New()
			if err != nil {
				return err
			}
			printJSON(map[string]string{
				"verifier":  pair.Verifier,
				"challenge": pair.Challenge,
				"method":    pkce.Method,
			})
			return nil
		},
	}

	// ─────────────── config ───────────────

	configCmd := &cobra.Command{Use: "config", Short: "inspección de configuración"}
	configCheckCmd := &cobra.Command{
		Use:   "check",
		Short: "carga la configuración y valida lo que el flujo necesita",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateBridge(); err != nil {
				return err
			}
			fmt.Println("ok: la configuración del bridge está completa")
			return nil
		},
	}
	configCmd.AddCommand(configCheckCmd)

	// ─────────────── username ───────────────

	usernameCmd := &cobra.Command{
		Use:   "username <display name>",
		Short: "muestra cómo se normaliza un display name a handle",
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			raw := strings.Join(args, " ")
			fmt.Println(username.Normalize(raw))
		},
	}

	root.AddCommand(stateCmd, pkceCmd, configCmd, usernameCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
