package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticProviderServesCopies(t *testing.T) {
	p := Static("tok-1", "admin")

	first, err := p.Session(context.Background())
	require.NoError(t, err)
	require.True(t, first.Active)
	first.Token = "mutated"

	second, err := p.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", second.Token)
}

func TestStaticEmptyTokenMeansSignedOut(t *testing.T) {
	p := Static("", "admin")
	session, err := p.Session(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestSwapReplacesSession(t *testing.T) {
	p := Static("tok-1", "admin")
	p.Swap(nil)

	session, err := p.Session(context.Background())
	require.NoError(t, err)
	require.Nil(t, session)

	p.Swap(&Session{Token: "tok-2", Role: "editor", Active: true})
	session, err = p.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", session.Token)
}

func TestAttachAddsSessionCookie(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	require.NoError(t, err)

	Attach(req, &Session{Token: "tok-1", Active: true})
	cookie, err := req.Cookie(CookieName)
	require.NoError(t, err)
	require.Equal(t, "tok-1", cookie.Value)
}

func TestAttachSkipsNilAndBlankSessions(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	require.NoError(t, err)

	Attach(req, nil)
	Attach(req, &Session{Token: "   "})
	require.Empty(t, req.Cookies())
}
