// Package types defines the shared identifier and request types for texserv.
//
// The package is a leaf: it depends on nothing inside the module so that
// every other package can import it freely.
package types

import "github.com/google/uuid"

// AssetID identifies a stored texture asset. Assets are content-addressed
// by UUID, matching the key format of the backing stores.
//
// AssetID is comparable and suitable as a map key.
type AssetID uuid.UUID

// NilAssetID is the zero AssetID.
var NilAssetID = AssetID(uuid.Nil)

// NewAssetID returns a random AssetID.
func NewAssetID() AssetID {
	return AssetID(uuid.New())
}

// ParseAssetID parses a canonical UUID string into an AssetID.
func ParseAssetID(s string) (AssetID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilAssetID, err
	}
	return AssetID(id), nil
}

// String returns the canonical UUID form.
func (a AssetID) String() string {
	return uuid.UUID(a).String()
}

// IsNil reports whether the AssetID is the zero value.
func (a AssetID) IsNil() bool {
	return a == NilAssetID
}

// ClientID identifies a connected client session.
type ClientID uuid.UUID

// NilClientID is the zero ClientID.
var NilClientID = ClientID(uuid.Nil)

// NewClientID returns a random ClientID.
func NewClientID() ClientID {
	return ClientID(uuid.New())
}

// ParseClientID parses a canonical UUID string into a ClientID.
func ParseClientID(s string) (ClientID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilClientID, err
	}
	return ClientID(id), nil
}

// String returns the canonical UUID form.
func (c ClientID) String() string {
	return uuid.UUID(c).String()
}
