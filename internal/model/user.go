// Package model はドメインモデルを定義する。
package model

import "time"

// Account はサービス利用ユーザーのアカウントを表す。
type Account struct {
	ID        string
	Email     string
	Name      string
	Disabled  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// プロバイダーID。Identity.ProviderIDおよびCredential.Providerに格納される。
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// Credential はアカウントとサインイン手段（パスワード、外部IdP）の紐付けを表す。
// パスワードの場合SubjectはメールアドレスでSecretHashにbcryptハッシュを持つ。
type Credential struct {
	ID         string
	AccountID  string
	Provider   string
	Subject    string
	SecretHash string
	CreatedAt  time.Time
}

// Session はIDプロバイダーが発行したログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	Provider  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IdentityMetadata はプロバイダー由来のメタデータ。
type IdentityMetadata struct {
	CreatedAt    time.Time
	LastSignInAt time.Time
}

// Identity は認証済みユーザーを表す値。
// プロバイダーの状態変化ごとに新しい値が作られ、その場で変更されることはない。
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	ProviderID  string
	Metadata    IdentityMetadata
}

// NewIdentity はアカウントとセッションからIdentityを組み立てる。
func NewIdentity(account *Account, session *Session) *Identity {
	return &Identity{
		ID:          account.ID,
		Email:       account.Email,
		DisplayName: account.Name,
		ProviderID:  session.Provider,
		Metadata: IdentityMetadata{
			CreatedAt:    account.CreatedAt,
			LastSignInAt: session.CreatedAt,
		},
	}
}
