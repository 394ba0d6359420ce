package types

// Version is the canonical project version, shared by the CLI and the
// packet frame contract.
const Version = "0.2.0"
