package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/planner/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用したcredentialリポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByProviderAndSubject はproviderとsubjectでcredentialを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByProviderAndSubject(ctx context.Context, provider, subject string) (*model.Credential, error) {
	credential := &model.Credential{}
	var secretHash sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, provider, subject, secret_hash, created_at
		 FROM credentials
		 WHERE provider = $1 AND subject = $2`,
		provider, subject,
	).Scan(&credential.ID, &credential.AccountID, &credential.Provider, &credential.Subject, &secretHash, &credential.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	credential.SecretHash = secretHash.String

	return credential, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
