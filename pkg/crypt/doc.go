// Package crypt holds the client-side key handling and the authenticated envelope format.
//
// A paste key is 32 random bytes carried as unpadded base64url text in the URL fragment.
// Content keys are derived from the key text with PBKDF2-SHA256 and a per-message salt, then
// used with AES-256-GCM (default) or XChaCha20-Poly1305. The envelope is JSON text that names
// every parameter needed to open it, so the server can store it without understanding it.
//
// Keys must never be logged or sent to the server. [Key] redacts itself when formatted.
package crypt
