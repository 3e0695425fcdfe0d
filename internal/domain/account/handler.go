package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/postpartum/tracker/internal/platform/auth"
)

const nonceCookie = "oauth_nonce"

// LoginRedirector builds the provider consent URL.
type LoginRedirector interface {
	AuthorizationURL(nonce string) string
}

type Handler struct {
	flow         *LoginFlow
	password     *PasswordLogin
	redirector   LoginRedirector
	callbackPath string
	secure       bool
	logger       zerolog.Logger
}

// NewHandler wires the login endpoints. secure marks the nonce cookie Secure.
func NewHandler(flow *LoginFlow, password *PasswordLogin, redirector LoginRedirector, secure bool, logger zerolog.Logger) *Handler {
	return &Handler{
		flow:         flow,
		password:     password,
		redirector:   redirector,
		callbackPath: "/auth/google/callback/",
		secure:       secure,
		logger:       logger,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/login/", h.LoginPage)
	if p := h.SuccessPath(); p != "/login/" {
		e.GET(p, h.LandingPage)
	}
	e.POST("/auth/login/", h.PasswordLogin)
	e.GET("/google/login/", h.GoogleLogin)
	e.GET(h.callbackPath, h.GoogleCallback)
}

const loginPageCSP = "default-src 'none'; script-src 'unsafe-inline'; connect-src 'self'; " +
	"style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"

func (h *Handler) LoginPage(c echo.Context) error {
	c.Response().Header().Set("Content-Security-Policy", loginPageCSP)
	return c.HTML(http.StatusOK, loginPage)
}

// SuccessPath is where a completed federated login lands. It must be public
// since the token only arrives in its query string.
func (h *Handler) SuccessPath() string {
	return h.flow.cfg.SuccessPath
}

// LandingPage keeps the token from ?token= in session storage and drops it
// from the address bar.
func (h *Handler) LandingPage(c echo.Context) error {
	c.Response().Header().Set("Content-Security-Policy", loginPageCSP)
	return c.HTML(http.StatusOK, landingPage)
}

func (h *Handler) GoogleLogin(c echo.Context) error {
	nonce, err := auth.NewNonce()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start login").SetInternal(err)
	}
	c.SetCookie(&http.Cookie{
		Name:     nonceCookie,
		Value:    nonce,
		Path:     h.callbackPath,
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.redirector.AuthorizationURL(nonce))
}

func (h *Handler) GoogleCallback(c echo.Context) error {
	var nonce string
	if ck, err := c.Cookie(nonceCookie); err == nil {
		nonce = ck.Value
	}
	c.SetCookie(&http.Cookie{
		Name:     nonceCookie,
		Path:     h.callbackPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
	})

	res := h.flow.Run(c.Request().Context(), c.QueryParam("code"), nonce)
	return c.Redirect(http.StatusFound, res.Redirect)
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (h *Handler) PasswordLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Please provide both username and password"})
	}

	sess, err := h.password.Login(c.Request().Context(), req.Username, req.Password)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, sess)
	case errors.Is(err, ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	case errors.Is(err, ErrTooManyAttempts):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many login attempts, try again later"})
	default:
		h.logger.Error().Err(err).Msg("password login failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Login failed"})
	}
}

const loginPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in</title>
</head>
<body>
<main>
<h1>Postpartum Tracker</h1>
<p><a href="/google/login/">Sign in with Google</a></p>
<form id="login">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
<p id="result" role="status"></p>
</main>
<script>
document.getElementById("login").addEventListener("submit", async (ev) => {
  ev.preventDefault();
  const form = new FormData(ev.target);
  const resp = await fetch("/auth/login/", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({username: form.get("username"), password: form.get("password")}),
  });
  const body = await resp.json();
  document.getElementById("result").textContent = resp.ok ? "Token: " + body.token : body.error;
});
</script>
</body>
</html>
`

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Signed in</title>
</head>
<body>
<main>
<h1>Postpartum Tracker</h1>
<p id="status" role="status">Signing in...</p>
</main>
<script>
const token = new URLSearchParams(window.location.search).get("token");
const status = document.getElementById("status");
if (token) {
  sessionStorage.setItem("token", token);
  history.replaceState(null, "", window.location.pathname);
  status.textContent = "Signed in. Send this token as \"Authorization: Token " + token + "\".";
} else {
  status.textContent = "No session token. Please sign in again.";
}
</script>
</body>
</html>
`
