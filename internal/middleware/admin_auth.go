// Package middleware guards the admin API.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/google/logger"
)

const initDataHeader = "X-Telegram-Init-Data"

type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// AdminAuth accepts either HTTP Basic auth as user "admin" with Password, or
// Telegram Web App init data signed for BotToken by one of AdminIDs.
// The zero value rejects every request.
type AdminAuth struct {
	Password string
	BotToken string
	AdminIDs []int64
}

func (a AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.basicAuthOK(r) {
			next.ServeHTTP(w, r)
			return
		}

		if initData := r.Header.Get(initDataHeader); initData != "" {
			user, ok := ValidateInitData(initData, a.BotToken)
			switch {
			case !ok:
				logger.Warningf("Rejected admin request: invalid init data")
			case !slices.Contains(a.AdminIDs, user.ID):
				logger.Warningf("Rejected admin request from telegram user %d", user.ID)
			default:
				logger.Infof("Admin request from telegram user %s (%d)", user.Username, user.ID)
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="raffle admin"`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}

func (a AdminAuth) basicAuthOK(r *http.Request) bool {
	if a.Password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(a.Password)) == 1
}

// ValidateInitData checks the hash of Telegram Web App init data against
// botToken and returns the user it was issued for.
func ValidateInitData(initData, botToken string) (TelegramUser, bool) {
	if botToken == "" {
		return TelegramUser{}, false
	}
	params, err := url.ParseQuery(initData)
	if err != nil {
		return TelegramUser{}, false
	}
	hash := params.Get("hash")
	if hash == "" {
		return TelegramUser{}, false
	}

	want := SignInitData(params, botToken)
	if !hmac.Equal([]byte(want), []byte(hash)) {
		return TelegramUser{}, false
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(params.Get("user")), &user); err != nil {
		return TelegramUser{}, false
	}
	return user, true
}

// SignInitData computes the hex hash Telegram attaches to init data:
// HMAC-SHA256 of the sorted key=value lines (hash excluded), keyed by
// HMAC-SHA256("WebAppData", botToken).
func SignInitData(params url.Values, botToken string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + params.Get(k)
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
