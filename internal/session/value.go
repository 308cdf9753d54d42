// Package session は認証状態（未確定・認証済み・匿名）を保持し、購読と一括取得を提供する。
package session

import "github.com/hitoshi/planner/internal/model"

// State はセッション状態の種別。
type State int

const (
	// StateUnknown はIDプロバイダーからの最初の通知をまだ受け取っていない状態。
	StateUnknown State = iota
	// StateAuthenticated はサインイン済みの状態。
	StateAuthenticated
	// StateAnonymous はサインインしていないことが確定した状態。
	StateAnonymous
)

// String は状態名を返す。ログとメトリクスのラベルに使う。
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Value はセッション値。StateAuthenticatedのときだけIdentityを持つ。
// ゼロ値はUnknown。
type Value struct {
	state    State
	identity *model.Identity
}

// Unknown は未確定のセッション値を返す。
func Unknown() Value {
	return Value{state: StateUnknown}
}

// Anonymous は匿名のセッション値を返す。
func Anonymous() Value {
	return Value{state: StateAnonymous}
}

// Authenticated は認証済みのセッション値を返す。identityがnilならAnonymousになる。
func Authenticated(identity *model.Identity) Value {
	if identity == nil {
		return Anonymous()
	}
	return Value{state: StateAuthenticated, identity: identity}
}

// FromIdentity はプロバイダーの通知値をセッション値に変換する。nilはAnonymous。
func FromIdentity(identity *model.Identity) Value {
	return Authenticated(identity)
}

// State は状態種別を返す。
func (v Value) State() State {
	return v.state
}

// Identity は認証済みの場合にIdentityを返す。
func (v Value) Identity() (*model.Identity, bool) {
	if v.state != StateAuthenticated {
		return nil, false
	}
	return v.identity, true
}

// IsKnown はUnknown以外であればtrueを返す。
func (v Value) IsKnown() bool {
	return v.state != StateUnknown
}

// IsAuthenticated は認証済みであればtrueを返す。
func (v Value) IsAuthenticated() bool {
	return v.state == StateAuthenticated
}

// UserID は認証済みならユーザーIDを、そうでなければ空文字を返す。
func (v Value) UserID() string {
	if v.state != StateAuthenticated {
		return ""
	}
	return v.identity.ID
}
