// Package logger builds configured slog.Logger instances with consistent
// output format, level, and static attributes across the application.
//
// Production gets JSON output at info level; development gets text output at
// debug level. Both presets stamp the service name on every record.
//
//	log := logger.New(
//		logger.WithProduction("entitlement"),
//		logger.WithAttr(slog.String("version", version)),
//	)
//	logger.SetAsDefault(log)
//
// The package also carries attribute helpers (logger.Error, logger.TenantID)
// so log fields keep the same keys everywhere.
package logger
