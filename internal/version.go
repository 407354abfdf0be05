package internal

// Version is reported by /healthz and the client header.
// This should be updated with each release
const Version = "0.3.0"
