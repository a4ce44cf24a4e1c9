package license

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"plughub/internal/infrastructure"
	"plughub/internal/security"
)

// logAction logs a license action and mirrors it as a span event.
// Secrets must be passed through keyAttr or tokenAttr, never raw.
func logAction(ctx context.Context, logger *slog.Logger, level slog.Level, action, result string, attrs ...slog.Attr) {
	infrastructure.AddSpanEvent(ctx, "license."+action,
		attribute.String("action", action),
		attribute.String("result", result),
	)

	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("action", action), slog.String("result", result))
	all = append(all, attrs...)
	logger.LogAttrs(ctx, level, "license "+action, all...)
}

// keyAttr identifies an API key secret in logs without revealing it
func keyAttr(secret string) slog.Attr {
	return slog.Group("license_key",
		slog.String("masked", security.MaskSecret(secret)),
		slog.String("hash", security.AuditHash(secret)),
	)
}

// tokenAttr identifies an activation token in logs without revealing it
func tokenAttr(token string) slog.Attr {
	return slog.String("activation_token_hash", security.AuditHash(token))
}
