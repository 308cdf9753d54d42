// Package navigation はビューのパス定義、ナビゲーション、ルートガード、起動時のリダイレクト判定を提供する。
package navigation

import (
	"net/url"
	"path"
	"strings"
)

// ビューのパス。
const (
	PathRoot      = "/"
	PathLogin     = "/login"
	PathRegister  = "/register"
	PathDashboard = "/dashboard"
	PathTasks     = "/tasks"
	PathGoals     = "/goals"
	PathNotes     = "/notes"
)

// ReturnURLParam はログイン後の遷移先を運ぶクエリパラメータ名。
const ReturnURLParam = "returnUrl"

var protectedPaths = []string{PathDashboard, PathTasks, PathGoals, PathNotes}

// Clean はパスを正規化する。空文字はルートになる。
func Clean(p string) string {
	if p == "" {
		return PathRoot
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// IsProtected はpがログインを要するビューであればtrueを返す。
func IsProtected(p string) bool {
	p = Clean(p)
	for _, protected := range protectedPaths {
		if p == protected || strings.HasPrefix(p, protected+"/") {
			return true
		}
	}
	return false
}

// IsAuthEntry はpがログインまたは新規登録のビューであればtrueを返す。
func IsAuthEntry(p string) bool {
	p = Clean(p)
	return p == PathLogin || p == PathRegister
}

// IsRoot はpがルートであればtrueを返す。
func IsRoot(p string) bool {
	return Clean(p) == PathRoot
}

// Target は遷移先。ReturnURLが空でなければクエリに付与される。
type Target struct {
	Path      string
	ReturnURL string
}

// String は遷移先のURLを返す。
func (t Target) String() string {
	if t.ReturnURL == "" {
		return t.Path
	}
	q := url.Values{}
	q.Set(ReturnURLParam, t.ReturnURL)
	return t.Path + "?" + q.Encode()
}

// LoginTarget はrequestedを戻り先に持つログインビューへの遷移先を返す。
func LoginTarget(requested string) Target {
	return Target{Path: PathLogin, ReturnURL: requested}
}

// ReturnTarget はログイン後の遷移先を返す。
// rawがアプリ内の絶対パスでなければダッシュボードに遷移する。
func ReturnTarget(raw string) Target {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return Target{Path: PathDashboard}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return Target{Path: PathDashboard}
	}
	if IsAuthEntry(u.Path) {
		return Target{Path: PathDashboard}
	}
	return Target{Path: raw}
}

// RequestedURL はパスとクエリから戻り先として保存するURLを組み立てる。
func RequestedURL(u *url.URL) string {
	if u == nil {
		return PathRoot
	}
	if u.RawQuery == "" {
		return Clean(u.Path)
	}
	return Clean(u.Path) + "?" + u.RawQuery
}
