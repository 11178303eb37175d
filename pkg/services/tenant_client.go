package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/crypto"
	"github.com/ekaya-inc/ekaya-pulse/pkg/logging"
)

// tenantOpener turns a stored, encrypted connection string into an open
// tenant client.
type tenantOpener struct {
	encryptor *crypto.CredentialEncryptor
	connector datasource.Connector
	logger    *zap.Logger
}

// open decrypts, parses and connects. The caller must close the returned
// client on every path.
func (o *tenantOpener) open(ctx context.Context, id uuid.UUID, encrypted string) (datasource.TenantClient, error) {
	connStr, err := o.encryptor.Decrypt(encrypted)
	if err != nil {
		o.logger.Error("Stored connection string failed integrity check",
			zap.String("connection_id", id.String()),
			zap.Error(err))
		return nil, err
	}

	creds, err := postgres.ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("stored connection string is invalid: %w", err)
	}

	// Connector failures are logged by the connector.
	return o.connector.Connect(ctx, creds)
}

// close releases client, logging failures. Close completes even when ctx is done.
func (o *tenantOpener) close(ctx context.Context, id uuid.UUID, client datasource.TenantClient) {
	if err := client.Close(ctx); err != nil {
		o.logger.Warn("Failed to close tenant connection",
			zap.String("connection_id", id.String()),
			zap.String("error", logging.SanitizeError(err)))
	}
}

// safeMessage returns a message for err that is safe to show callers.
func safeMessage(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err.Error()
	}
	return "an unexpected error occurred"
}
