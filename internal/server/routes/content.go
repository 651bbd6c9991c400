package routes

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drupal-ce/drupal-ce/internal/drupalce"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/state"
)

// SessionCookie 保存浏览器会话 ID，页面单元与消息队列都挂在该会话下。
const SessionCookie = "drupal_ce_session"

// localeParam 选择本地化菜单端点的语言前缀，不会转发给 CMS。
const localeParam = "lang"

// ContentOptions 是展示层路由的依赖。
type ContentOptions struct {
	Client *drupalce.Client
	Store  state.Store
	Logger *logrus.Logger
}

type contentHandler struct {
	client *drupalce.Client
	store  state.Store
	logger *logrus.Logger
}

type pageResponse struct {
	Page     *drupalce.Page     `json:"page"`
	Messages []messages.Message `json:"messages"`
}

// RegisterContentRoutes 注册 /page/*、/menu/:name 与 /messages。
func RegisterContentRoutes(app *fiber.App, opts ContentOptions) {
	if app == nil || opts.Client == nil || opts.Store == nil {
		return
	}
	h := &contentHandler{client: opts.Client, store: opts.Store, logger: opts.Logger}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}

	app.Get("/page/*", h.page)
	app.Get("/menu/:name", h.menu)
	app.Get("/messages", h.messages)
}

func (h *contentHandler) page(c fiber.Ctx) error {
	r, nav := h.render(c)
	page, err := h.client.FetchPage(c.Context(), r, pagePath(c), drupalce.CallOptions{})
	if err != nil {
		var pageErr *drupalce.PageFetchError
		if errors.As(err, &pageErr) {
			return c.Status(pageErr.StatusCode()).JSON(fiber.Map{
				"error":   "page_fetch_failed",
				"status":  pageErr.StatusCode(),
				"message": pageErr.Message,
				"data":    pageErr.Body,
			})
		}
		return err
	}
	if nav.navigated {
		return nil
	}

	queued, err := h.client.Messages().Get(c.Context(), r.Session)
	if err != nil {
		return err
	}
	return c.JSON(pageResponse{Page: page, Messages: queued})
}

func (h *contentHandler) menu(c fiber.Ctx) error {
	r, _ := h.render(c)
	data, err := h.client.FetchMenu(c.Context(), r, c.Params("name"), drupalce.CallOptions{})
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if data == nil {
		return c.SendString("null")
	}
	return c.Send(data)
}

func (h *contentHandler) messages(c fiber.Ctx) error {
	r, _ := h.render(c)
	drained, err := h.client.Messages().Drain(c.Context(), r.Session)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"messages": drained})
}

func (h *contentHandler) render(c fiber.Ctx) (*drupalce.Render, *fiberNavigator) {
	sess := state.NewSession(h.sessionID(c), state.ContextPresentation, h.store)
	sess.Locale = strings.Trim(strings.TrimSpace(c.Query(localeParam)), "/")
	nav := &fiberNavigator{c: c}
	return &drupalce.Render{
		Session:   sess,
		Inbound:   inboundHeaders(c),
		Navigator: nav,
		Response:  fiberResponse{c: c},
	}, nav
}

// sessionID 复用合法的会话 cookie，否则签发新的 uuid。
func (h *contentHandler) sessionID(c fiber.Ctx) string {
	if raw := c.Cookies(SessionCookie); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return id
}

// pagePath 还原 CMS 路径，保留除 lang 以外的 query。
func pagePath(c fiber.Ctx) string {
	p := "/" + strings.TrimLeft(c.Params("*"), "/")
	values := url.Values{}
	c.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		if string(key) != localeParam {
			values.Add(string(key), string(value))
		}
	})
	if len(values) > 0 {
		p += "?" + values.Encode()
	}
	return p
}

// inboundHeaders 复制入站请求头，网关自己的会话 cookie 不转发给 CMS。
func inboundHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	if cookies := header.Values("Cookie"); len(cookies) > 0 {
		header.Del("Cookie")
		if kept := stripCookie(cookies, SessionCookie); kept != "" {
			header.Set("Cookie", kept)
		}
	}
	return header
}

// stripCookie 从 Cookie 头中去掉名为 name 的条目，其余条目原样保留。
func stripCookie(values []string, name string) string {
	kept := make([]string, 0, len(values))
	for _, value := range values {
		for _, pair := range strings.Split(value, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			key, _, _ := strings.Cut(pair, "=")
			if strings.TrimSpace(key) == name {
				continue
			}
			kept = append(kept, pair)
		}
	}
	return strings.Join(kept, "; ")
}

type fiberNavigator struct {
	c         fiber.Ctx
	navigated bool
}

// Navigate 把 CMS 重定向翻译为 HTTP 重定向，非 3xx 状态按 302 处理。
func (n *fiberNavigator) Navigate(_ context.Context, redirect drupalce.Redirect) error {
	status := redirect.StatusCode
	if status < fiber.StatusMultipleChoices || status >= fiber.StatusBadRequest {
		status = fiber.StatusFound
	}
	n.navigated = true
	return n.c.Redirect().Status(status).To(redirect.URL)
}

type fiberResponse struct {
	c fiber.Ctx
}

func (r fiberResponse) SetStatus(code int) {
	r.c.Status(code)
}

func (r fiberResponse) SetHeader(key, value string) {
	r.c.Set(key, value)
}
