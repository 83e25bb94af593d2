package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/totp"
)

type memStore struct {
	mu   sync.Mutex
	byID map[string]entity.Account
	err  error
}

func newMemStore() *memStore { return &memStore{byID: map[string]entity.Account{}} }

func (m *memStore) FindByEmail(_ context.Context, email string) (*entity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, a := range m.byID {
		if a.Email == email {
			cp := a
			return &cp, nil
		}
	}
	return nil, autherr.ErrNotFound
}

func (m *memStore) FindByID(_ context.Context, id string) (*entity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.byID[id]
	if !ok {
		return nil, autherr.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) Save(_ context.Context, a *entity.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.byID[a.ID] = *a
	return nil
}

func (m *memStore) get(t *testing.T, id string) entity.Account {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	require.True(t, ok, "account %s not stored", id)
	return a
}

type testClock struct{ at time.Time }

func (c *testClock) Now() time.Time { return c.at }

type fixture struct {
	svc      *Service
	accounts *account.Service
	store    *memStore
	issuer   *token.Issuer
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{at: time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)}
	store := newMemStore()
	logger := zaptest.NewLogger(t).Sugar()
	hasher := account.BcryptHasher{Cost: 4}
	issuer, err := token.NewIssuer(token.Config{Secret: []byte("test-secret"), Issuer: "test", Now: clock.Now})
	require.NoError(t, err)
	accounts := account.NewService(store, hasher, nil, logger)
	svc := NewService(Deps{
		Store:    store,
		Accounts: accounts,
		Hasher:   hasher,
		Issuer:   issuer,
		TOTP:     totp.NewEngine(totp.Config{Issuer: "Pitchfork"}),
		Logger:   logger,
		Now:      clock.Now,
	})
	return &fixture{svc: svc, accounts: accounts, store: store, issuer: issuer, clock: clock}
}

func (f *fixture) register(t *testing.T, email, password string) entity.PublicView {
	t.Helper()
	v, err := f.accounts.Register(context.Background(), account.RegisterInput{Name: "Ann", Email: email, Password: password})
	require.NoError(t, err)
	return *v
}

func (f *fixture) claims(t *testing.T, raw string) *token.Claims {
	t.Helper()
	c, err := f.issuer.Parse(raw)
	require.NoError(t, err)
	return c
}

func (f *fixture) code(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()
	code, err := pqtotp.GenerateCodeCustom(secret, f.clock.at.Add(offset), pqtotp.ValidateOpts{
		Period: totp.Period, Digits: totp.Digits, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// wrongCode returns a well-formed code that does not match secret near now.
func (f *fixture) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for _, off := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[f.code(t, secret, off)] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

// enroll runs the full enrollment for the account behind session and
// returns the confirmed secret.
func (f *fixture) enroll(t *testing.T, session string) string {
	t.Helper()
	ctx := context.Background()
	c := f.claims(t, session)
	_, err := f.svc.RequestEnrollment(ctx, c)
	require.NoError(t, err)
	secret := f.store.get(t, c.Subject).TwoFactorSecret
	require.NoError(t, f.svc.ConfirmEnrollment(ctx, c, CodeInput{Code: f.code(t, secret, 0)}))
	return secret
}

func TestLoginWithoutSecondFactor(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")

	res, err := f.svc.Login(context.Background(), LoginInput{Email: "Ann@X.com", Password: "secret1"})
	require.NoError(t, err)
	assert.False(t, res.TwoFactor)
	assert.Equal(t, view, res.User)

	c := f.claims(t, res.Token)
	assert.True(t, c.AuthenticationComplete)
	assert.Equal(t, view.ID, c.Subject)
	assert.Equal(t, "ann@x.com", c.Email)
	assert.Equal(t, f.clock.at.Add(time.Hour).Unix(), c.ExpiresAt.Unix())
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "secret1"})
	assert.ErrorIs(t, err, autherr.ErrNotFound)

	_, err = f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "wrong!"})
	assert.ErrorIs(t, err, autherr.ErrBadCredential)

	_, err = f.svc.Login(ctx, LoginInput{})
	require.Error(t, err)
	assert.Equal(t, autherr.KindValidation, autherr.KindOf(err))
	assert.Len(t, autherr.ViolationsOf(err), 2)
}

func TestLoginStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "ann@x.com", Password: "secret1"})
	assert.Equal(t, autherr.KindInternal, autherr.KindOf(err))
}

func TestFederatedAccountCannotUsePassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LoginFederated(context.Background(), account.FederatedIdentity{Provider: "google", Email: "bob@x.com"})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "bob@x.com", Password: "anything"})
	assert.ErrorIs(t, err, autherr.ErrBadCredential)
}

func TestEnrollmentAndSecondFactorLogin(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()

	first, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	session := f.claims(t, first.Token)

	enr, err := f.svc.RequestEnrollment(ctx, session)
	require.NoError(t, err)
	assert.Contains(t, enr.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, enr.QRCode, "data:image/png;base64,")

	stored := f.store.get(t, view.ID)
	require.NotEmpty(t, stored.TwoFactorSecret)
	assert.False(t, stored.TwoFactorEnabled, "secret stored but not yet enabled")

	err = f.svc.ConfirmEnrollment(ctx, session, CodeInput{Code: f.wrongCode(t, stored.TwoFactorSecret)})
	assert.ErrorIs(t, err, autherr.ErrSecondFactorInvalid)
	assert.Equal(t, stored.TwoFactorSecret, f.store.get(t, view.ID).TwoFactorSecret, "secret kept after a bad code")

	require.NoError(t, f.svc.ConfirmEnrollment(ctx, session, CodeInput{Code: f.code(t, stored.TwoFactorSecret, 0)}))
	assert.True(t, f.store.get(t, view.ID).TwoFactorEnabled)

	second, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	assert.True(t, second.TwoFactor)
	pre := f.claims(t, second.Token)
	assert.False(t, pre.AuthenticationComplete)
	assert.Equal(t, f.clock.at.Add(5*time.Minute).Unix(), pre.ExpiresAt.Unix())

	// A wrong code is retryable with the same pre-auth token.
	_, err = f.svc.VerifySecondFactor(ctx, pre, CodeInput{Code: f.wrongCode(t, stored.TwoFactorSecret)})
	assert.ErrorIs(t, err, autherr.ErrSecondFactorInvalid)

	f.clock.at = f.clock.at.Add(20 * time.Second)
	res, err := f.svc.VerifySecondFactor(ctx, pre, CodeInput{Code: f.code(t, stored.TwoFactorSecret, 0)})
	require.NoError(t, err)
	assert.False(t, res.TwoFactor)
	assert.True(t, f.claims(t, res.Token).AuthenticationComplete)
	assert.True(t, res.User.TwoFactorEnabled)
}

func TestSecondFactorAcceptsAdjacentSteps(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()
	login, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	secret := f.enroll(t, login.Token)

	for _, off := range []time.Duration{-30 * time.Second, 30 * time.Second} {
		res, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
		require.NoError(t, err)
		_, err = f.svc.VerifySecondFactor(ctx, f.claims(t, res.Token), CodeInput{Code: f.code(t, secret, off)})
		assert.NoError(t, err, "offset %s", off)
	}
}

func TestPreAuthTokenExpires(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()
	login, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	f.enroll(t, login.Token)

	res, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)

	f.clock.at = f.clock.at.Add(6 * time.Minute)
	_, err = f.issuer.Parse(res.Token)
	assert.ErrorIs(t, err, autherr.ErrInvalidToken)
}

func TestEnrollmentRestartInvalidatesEarlierSecret(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()
	login, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	session := f.claims(t, login.Token)

	_, err = f.svc.RequestEnrollment(ctx, session)
	require.NoError(t, err)
	s1 := f.store.get(t, view.ID).TwoFactorSecret

	_, err = f.svc.RequestEnrollment(ctx, session)
	require.NoError(t, err)
	s2 := f.store.get(t, view.ID).TwoFactorSecret
	require.NotEqual(t, s1, s2)

	if c1 := f.code(t, s1, 0); c1 != f.code(t, s2, 0) {
		err = f.svc.ConfirmEnrollment(ctx, session, CodeInput{Code: c1})
		assert.ErrorIs(t, err, autherr.ErrSecondFactorInvalid)
	}
	require.NoError(t, f.svc.ConfirmEnrollment(ctx, session, CodeInput{Code: f.code(t, s2, 0)}))
}

func TestStageChecks(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()
	login, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	secret := f.enroll(t, login.Token)
	session := f.claims(t, login.Token)

	res, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	pre := f.claims(t, res.Token)
	code := CodeInput{Code: f.code(t, secret, 0)}

	_, err = f.svc.VerifySecondFactor(ctx, session, code)
	assert.ErrorIs(t, err, autherr.ErrInvalidToken, "complete token on verify")
	_, err = f.svc.VerifySecondFactor(ctx, nil, code)
	assert.ErrorIs(t, err, autherr.ErrInvalidToken)

	_, err = f.svc.RequestEnrollment(ctx, pre)
	assert.ErrorIs(t, err, autherr.ErrInvalidToken, "pre-auth token on enrollment")
	assert.ErrorIs(t, f.svc.ConfirmEnrollment(ctx, pre, code), autherr.ErrInvalidToken)
	assert.ErrorIs(t, f.svc.DisableTwoFactor(ctx, pre, code), autherr.ErrInvalidToken)
	_, err = f.svc.Profile(ctx, pre)
	assert.ErrorIs(t, err, autherr.ErrInvalidToken)
}

func TestVerifyWithoutSecondFactorConfigured(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()

	pre, err := f.issuer.IssuePreAuth(view.ID, view.Email)
	require.NoError(t, err)
	_, err = f.svc.VerifySecondFactor(ctx, f.claims(t, pre), CodeInput{Code: "123456"})
	assert.ErrorIs(t, err, autherr.ErrSecondFactorNotConfigured)

	session, err := f.issuer.IssueSession(view.ID, view.Email)
	require.NoError(t, err)
	err = f.svc.ConfirmEnrollment(ctx, f.claims(t, session), CodeInput{Code: "123456"})
	assert.ErrorIs(t, err, autherr.ErrSecondFactorNotConfigured)
	err = f.svc.DisableTwoFactor(ctx, f.claims(t, session), CodeInput{Code: "123456"})
	assert.ErrorIs(t, err, autherr.ErrSecondFactorNotConfigured)
}

func TestVerifyForDeletedAccount(t *testing.T) {
	f := newFixture(t)
	pre, err := f.issuer.IssuePreAuth("404", "ghost@x.com")
	require.NoError(t, err)
	_, err = f.svc.VerifySecondFactor(context.Background(), f.claims(t, pre), CodeInput{Code: "123456"})
	assert.ErrorIs(t, err, autherr.ErrNotFound)
}

func TestCodeValidation(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")
	pre, err := f.issuer.IssuePreAuth(view.ID, view.Email)
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567"} {
		_, err := f.svc.VerifySecondFactor(context.Background(), f.claims(t, pre), CodeInput{Code: code})
		assert.Equal(t, autherr.KindValidation, autherr.KindOf(err), "code %q", code)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")
	ctx := context.Background()
	login, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	secret := f.enroll(t, login.Token)
	session := f.claims(t, login.Token)

	err = f.svc.DisableTwoFactor(ctx, session, CodeInput{Code: f.wrongCode(t, secret)})
	assert.ErrorIs(t, err, autherr.ErrSecondFactorInvalid)
	assert.True(t, f.store.get(t, view.ID).TwoFactorEnabled)

	require.NoError(t, f.svc.DisableTwoFactor(ctx, session, CodeInput{Code: f.code(t, secret, 0)}))
	stored := f.store.get(t, view.ID)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Empty(t, stored.TwoFactorSecret)

	res, err := f.svc.Login(ctx, LoginInput{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)
	assert.False(t, res.TwoFactor)
}

func TestLoginFederated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.LoginFederated(ctx, account.FederatedIdentity{Provider: "github", Email: "bob@x.com", Name: "Bob"})
	require.NoError(t, err)
	assert.False(t, res.TwoFactor)
	assert.Equal(t, "Bob", res.User.Name)

	secret := f.enroll(t, res.Token)

	res, err = f.svc.LoginFederated(ctx, account.FederatedIdentity{Provider: "github", Email: "bob@x.com"})
	require.NoError(t, err)
	assert.True(t, res.TwoFactor)
	pre := f.claims(t, res.Token)
	assert.False(t, pre.AuthenticationComplete)

	done, err := f.svc.VerifySecondFactor(ctx, pre, CodeInput{Code: f.code(t, secret, 0)})
	require.NoError(t, err)
	assert.True(t, f.claims(t, done.Token).AuthenticationComplete)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	view := f.register(t, "ann@x.com", "secret1")
	session, err := f.issuer.IssueSession(view.ID, view.Email)
	require.NoError(t, err)

	got, err := f.svc.Profile(context.Background(), f.claims(t, session))
	require.NoError(t, err)
	assert.Equal(t, view, *got)
}
