package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const grace = 30 * 24 * time.Hour

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name          string
		expiry        time.Time
		wantExpired   bool
		wantAvailable bool
	}{
		{"40 days past expiry", testNow.AddDate(0, 0, -40), true, true},
		{"10 days past expiry", testNow.AddDate(0, 0, -10), true, false},
		{"exactly at grace boundary", testNow.Add(-grace), true, false},
		{"future expiry", testNow.AddDate(1, 0, 0), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expired, available := Evaluate(tt.expiry, testNow, grace)
			assert.Equal(t, tt.wantExpired, expired)
			assert.Equal(t, tt.wantAvailable, available)
		})
	}
}

func newTestVerifier(lookup LookupFunc) *Verifier {
	return New(lookup, Config{GracePeriod: grace}, WithClock(func() time.Time { return testNow }))
}

func TestVerify(t *testing.T) {
	expiries := map[string]time.Time{
		"dropped.com": testNow.AddDate(0, 0, -40),
		"grace.com":   testNow.AddDate(0, 0, -10),
		"live.com":    testNow.AddDate(2, 0, 0),
	}
	v := newTestVerifier(func(_ context.Context, name string) (time.Time, error) {
		exp, ok := expiries[name]
		if !ok {
			return time.Time{}, errors.New("unsupported tld")
		}
		return exp, nil
	})

	r := v.Verify(context.Background(), "dropped.com")
	assert.True(t, r.IsExpired)
	assert.True(t, r.IsAvailable)
	require.NotNil(t, r.RealExpiry)
	assert.Equal(t, expiries["dropped.com"], *r.RealExpiry)
	assert.Empty(t, r.Error)

	r = v.Verify(context.Background(), "grace.com")
	assert.True(t, r.IsExpired)
	assert.False(t, r.IsAvailable)
	assert.Empty(t, r.Error, "within grace is not an error")

	r = v.Verify(context.Background(), "live.com")
	assert.False(t, r.IsExpired)

	r = v.Verify(context.Background(), "missing.xyz")
	assert.False(t, r.IsExpired)
	assert.False(t, r.IsAvailable)
	assert.Nil(t, r.RealExpiry)
	assert.Contains(t, r.Error, "unsupported tld")
}

func TestVerify_ZeroExpiryIsUnverified(t *testing.T) {
	v := newTestVerifier(func(context.Context, string) (time.Time, error) { return time.Time{}, nil })

	r := v.Verify(context.Background(), "empty.com")
	assert.False(t, r.IsExpired)
	assert.False(t, r.IsAvailable)
	assert.Equal(t, ErrNoExpiry.Error(), r.Error)
}

func TestVerify_Cancelled(t *testing.T) {
	called := false
	v := newTestVerifier(func(context.Context, string) (time.Time, error) {
		called = true
		return testNow, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := v.Verify(ctx, "x.com")
	assert.NotEmpty(t, r.Error)
	assert.False(t, called)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-09", "2024-03-09T00:00:00Z", "09-Mar-2024", "2024.03.09", " 2024-03-09 00:00:00 "} {
		got, err := parseDate(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}

	_, err := parseDate("sometime soon")
	assert.ErrorIs(t, err, ErrNoExpiry)
}

func TestParseExpiry_RegistryResponse(t *testing.T) {
	raw := `   Domain Name: EXAMPLE.COM
   Registry Domain ID: 2336799_DOMAIN_COM-VRSN
   Registrar WHOIS Server: whois.iana.org
   Registrar URL: http://res-dom.iana.org
   Updated Date: 2024-08-14T07:01:34Z
   Creation Date: 1995-08-14T04:00:00Z
   Registry Expiry Date: 2025-08-13T04:00:00Z
   Registrar: RESERVED-Internet Assigned Numbers Authority
   Registrar IANA ID: 376
   Domain Status: clientDeleteProhibited https://icann.org/epp#clientDeleteProhibited
   Name Server: A.IANA-SERVERS.NET
   Name Server: B.IANA-SERVERS.NET
   DNSSEC: signedDelegation
`
	got, err := parseExpiry(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 13, 4, 0, 0, 0, time.UTC), got)
}

func TestParseExpiry_DayFirstDate(t *testing.T) {
	raw := `Domain Name: example.com
Registrar: Example Registrar
Expiration Date: 15.03.2024 00:00:00
`
	got, err := parseExpiry(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)
}
