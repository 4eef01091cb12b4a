package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_PassesThroughUnknownFields(t *testing.T) {
	in := []byte(`{"id":"u1","name":"Ann","countryFlag":"VN","learningLevel":"B1"}`)

	var u User
	require.NoError(t, json.Unmarshal(in, &u))
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "Ann", u.Name)

	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestNewUser_Marshal(t *testing.T) {
	out, err := json.Marshal(NewUser("u1", "", "a@example.com"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","name":"","email":"a@example.com"}`, string(out))
}

func TestSessionState_NormalizeClearsAuthWithoutUser(t *testing.T) {
	s := SessionState{IsAuthenticated: true}
	s.Normalize()
	assert.False(t, s.IsAuthenticated)
}

func TestSessionState_ResetKeepsLoading(t *testing.T) {
	s := SessionState{User: NewUser("u1", "", ""), AccessToken: "t", IsAuthenticated: true, IsLoading: true}
	s.Reset()
	assert.Equal(t, SessionState{IsLoading: true}, s)
}

func TestPersistedState_RoundTrip(t *testing.T) {
	exp := ExpiryFrom(time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC), 15*time.Minute)
	s := SessionState{
		User:            NewUser("u1", "Ann", "ann@example.com"),
		AccessToken:     "tok",
		IsAuthenticated: true,
		TokenExpiresAt:  exp,
		IsLoading:       true,
	}

	data, err := json.Marshal(s.Persisted())
	require.NoError(t, err)

	var p PersistedState
	require.NoError(t, json.Unmarshal(data, &p))
	got := p.State()

	assert.Equal(t, "u1", got.User.ID)
	assert.True(t, got.IsAuthenticated)
	assert.Equal(t, "tok", got.AccessToken)
	assert.True(t, exp.Equal(got.TokenExpiresAt))
	assert.False(t, got.IsLoading, "loading flag is not persisted")

	again, err := json.Marshal(got.Persisted())
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestPersistedState_EmptyUsesNulls(t *testing.T) {
	data, err := json.Marshal(SessionState{}.Persisted())
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":null,"token":null,"isAuthenticated":false,"tokenExpiresAt":null}`, string(data))
}

func TestPersistedState_StateNormalizes(t *testing.T) {
	s := PersistedState{IsAuthenticated: true}.State()
	assert.False(t, s.IsAuthenticated)
}

func TestOutcome_IsBlocking(t *testing.T) {
	assert.True(t, OutcomeBanned.IsBlocking())
	assert.True(t, OutcomeForbidden.IsBlocking())
	assert.False(t, OutcomeUnauthenticated.IsBlocking())
	assert.False(t, OutcomeNetworkError.IsBlocking())
}

func TestActivityKind_IsQualifying(t *testing.T) {
	for _, k := range ActivityKinds() {
		assert.True(t, k.IsQualifying(), k)
	}
	assert.False(t, ActivityKind("focus").IsQualifying())
}

func TestIdlePhase_String(t *testing.T) {
	assert.Equal(t, "active", PhaseActive.String())
	assert.Equal(t, "warning", PhaseWarning.String())
	assert.Equal(t, "logged_out", PhaseLoggedOut.String())
	assert.Equal(t, "unknown", IdlePhase(42).String())
}
