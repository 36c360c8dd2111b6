/*
Package auth resolves principals and capabilities for the registry.

Three credential forms are accepted:

  - Browser sessions: the OAuth authorization-code flow redirects to the
    configured login page with a single-use CSRF state; the callback
    exchanges the code, fetches the userinfo document, upserts the user by
    email, and issues an opaque server-side session cookie.
  - API tokens: Authorization: Bearer <token>, Basic base64(login:token), or
    the bare token cargo sends. Secrets are verified against their stored
    digests; tokens of inactive users fail with unauthorized.
  - Self-service: the process-lifetime internal credential, generated fresh
    at startup with write+admin capabilities and never persisted. It is
    compared in constant time and resolves to the "self-service" principal.

Authorization decisions on top of the resolved principal (ownership, admin
role) live in pkg/registry; this package only answers who the caller is and
what their credential permits.

# See Also

  - pkg/config for the self-service credential generation and the
    REGISTRY_OAUTH_* settings
  - pkg/storage for token persistence
*/
package auth
