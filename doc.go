// Package session manages client-side authentication state for applications
// that talk to a first-party backend and a federated identity provider at the
// same time, presenting both as a single consistent session.
//
// Session lifecycle:
//   - The Controller owns the session state machine (anonymous,
//     authenticating, pending verification, authenticated, failed) and is the
//     only component that mutates it. Operations that complete after a newer
//     user action are discarded, so the visible state always reflects the
//     latest thing the user did.
//   - Unverified accounts never hold an active session: a password login that
//     returns an unverified account is signed back out immediately and the
//     controller lands in pending verification with ErrEmailNotVerified.
//
// Credentials:
//   - A CredentialStore holds the one durable artifact, the local bearer
//     token issued by the backend. Federated tokens are derived lazily from
//     the provider on each call and are never persisted.
//   - The Resolver picks the outbound credential: a stored local token wins
//     verbatim, otherwise a fresh federated token is derived, otherwise the
//     call goes out anonymous. Scrubbing a stale local token is the response
//     classifier's job (401 only), never the resolver's.
//
// Transport:
//   - client.Transport attaches the resolved credential as a bearer header on
//     every outbound call. client.Classify maps every response into the error
//     taxonomy defined here so callers never branch on raw transport errors.
package session
