// samlauth lets a web application act as a SAML 2.0 Service Provider: it
// redirects users to an identity provider for authentication, consumes the
// signed assertion the IdP returns, resolves or provisions a local account
// from the asserted identity, and establishes a local session.
//
// See README.md
package samlauth
