// Package logger provee el zap.Logger singleton del bridge.
//
// Uso:
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//	log := logger.Named("tiktok")
//
// Nunca loguear secretos, tokens de acceso ni bodies crudos del proveedor;
// los emails se enmascaran con util.MaskEmail antes de loguearse.
package logger
