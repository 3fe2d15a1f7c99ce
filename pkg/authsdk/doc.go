/*
Package authsdk is a Go client for the KC auth service.

SDKClient covers the public endpoints: registration, login, identity
provider sign-in, refresh, revocation, health and the legacy session API.
Logging in returns a Session, which attaches the access token to every
call and refreshes it transparently:

	client := authsdk.NewSDKClient("http://localhost:8080")

	session, err := client.AuthenticateWithPassword(ctx, "alice@example.com", "secret")
	if err != nil {
		return err
	}

	me, err := session.Me(ctx)

A Session refreshes ahead of expiry and also retries once after a 401, so
a token revoked or expired early on the server side is replaced without
caller involvement. When the server rotates refresh tokens the Session
keeps the newest one.

Errors returned by the server are *OAuth2Error values and can be matched
with errors.Is against the predefined ones:

	if errors.Is(err, authsdk.ErrInvalidGrant) { ... }

The server also uses OAuth2Error.WriteError to produce those bodies.
*/
package authsdk
