package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"go.uber.org/zap"

	"github.com/framedrop/authbridge/internal/observability/logger"
)

const shutdownGrace = 10 * time.Second

// Serve levanta el servidor y lo apaga con gracia cuando ctx se cancela.
// Bloquea hasta que el server termina.
func Serve(ctx context.Context, addr string, handler stdhttp.Handler) error {
	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("http").Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	<-errCh // siempre ErrServerClosed después de Shutdown
	return nil
}
