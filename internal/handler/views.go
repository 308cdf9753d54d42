package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/planner/internal/middleware"
	"github.com/hitoshi/planner/internal/model"
	"github.com/hitoshi/planner/internal/navigation"
)

//go:embed templates/*.html
var templateFS embed.FS

// viewPages はビュー名とテンプレートファイルの対応。
// tasks・goals・notesは同じrecords.htmlを使う。
var viewPages = map[string]string{
	"login":     "templates/login.html",
	"register":  "templates/register.html",
	"dashboard": "templates/dashboard.html",
	"tasks":     "templates/records.html",
	"goals":     "templates/records.html",
	"notes":     "templates/records.html",
}

var viewFuncs = template.FuncMap{
	// day はRFC 3339の日時を日付だけにする。
	"day": func(s *string) string {
		if s == nil {
			return ""
		}
		t, err := time.Parse(time.RFC3339Nano, *s)
		if err != nil {
			return *s
		}
		return t.Format("2006-01-02")
	},
}

// viewData はテンプレートに渡す値。
type viewData struct {
	Title      string
	Page       string
	CSRFHeader string
	User       *model.Identity
	ReturnURL  string
	Error      string
	Dashboard  *dashboardResponse
}

// ViewHandler はHTMLのビューを返すハンドラー。
type ViewHandler struct {
	pages     map[string]*template.Template
	sessions  SessionViewer
	dashboard DashboardSource
}

// NewViewHandler はテンプレートを読み込んでViewHandlerを生成する。
func NewViewHandler(sessions SessionViewer, dashboard DashboardSource) (*ViewHandler, error) {
	pages := make(map[string]*template.Template, len(viewPages))
	for name, file := range viewPages {
		tmpl, err := template.New("base.html").Funcs(viewFuncs).ParseFS(templateFS, "templates/base.html", file)
		if err != nil {
			return nil, fmt.Errorf("parse view %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &ViewHandler{pages: pages, sessions: sessions, dashboard: dashboard}, nil
}

// Root はセッションに応じてダッシュボードかログインへ遷移する。
// GET /
func (h *ViewHandler) Root(w http.ResponseWriter, r *http.Request) {
	decision := navigation.Decide(navigation.RequestedURL(r.URL), h.sessions.Current(), nil)
	target := navigation.Target{Path: navigation.PathLogin}
	if decision.Redirect {
		target = decision.Target
	}
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// Login はログインビューを返す。
// GET /login
func (h *ViewHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "login", "ログイン", nil)
}

// Register は新規登録ビューを返す。
// GET /register
func (h *ViewHandler) Register(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register", "新規登録", nil)
}

// Dashboard はダッシュボードビューを返す。内容はサーバー側で読み込む。
// GET /dashboard
func (h *ViewHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, navigation.LoginTarget(navigation.RequestedURL(r.URL)).String(), http.StatusSeeOther)
		return
	}

	dashboard, err := h.dashboard.Dashboard(r.Context(), owner)
	if err != nil {
		slog.Warn("failed to load dashboard", slog.String("user_id", owner), slog.String("error", err.Error()))
		h.render(w, r, "dashboard", "ダッシュボード", func(d *viewData) {
			d.Error = "ダッシュボードを読み込めませんでした。"
		})
		return
	}
	resp := newDashboardResponse(dashboard)
	h.render(w, r, "dashboard", "ダッシュボード", func(d *viewData) { d.Dashboard = &resp })
}

// Tasks はタスクビューを返す。
// GET /tasks
func (h *ViewHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "tasks", "タスク", nil)
}

// Goals は目標ビューを返す。
// GET /goals
func (h *ViewHandler) Goals(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "goals", "目標", nil)
}

// Notes はノートビューを返す。
// GET /notes
func (h *ViewHandler) Notes(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "notes", "ノート", nil)
}

// NotFound は未知のパスを処理する。APIは404、ビューはログインへ遷移する。
func (h *ViewHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/auth/") {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "指定されたリソースが見つかりません。",
			Category: "validation",
			Action:   "URLを確認してください。",
		})
		return
	}
	http.Redirect(w, r, navigation.PathLogin, http.StatusSeeOther)
}

func (h *ViewHandler) render(w http.ResponseWriter, r *http.Request, page, title string, fill func(*viewData)) {
	data := viewData{
		Title:      title,
		Page:       page,
		CSRFHeader: middleware.CSRFHeaderName,
		ReturnURL:  r.URL.Query().Get(navigation.ReturnURLParam),
		Error:      r.URL.Query().Get("error"),
	}
	if identity, err := middleware.IdentityFromContext(r.Context()); err == nil {
		data.User = identity
	}
	if fill != nil {
		fill(&data)
	}

	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "base.html", data); err != nil {
		slog.Error("failed to render view", slog.String("page", page), slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
