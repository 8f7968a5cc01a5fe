package actor

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Address is the location of an actor within an actor system.
type Address struct {
	path string
}

var rootAddress = Address{path: "/"}

// Addr returns a new address with the provided actor path components.
func Addr(rawPath ...interface{}) Address {
	if len(rawPath) == 0 {
		panic("must have a non-empty address")
	}
	parts := make([]string, 0, len(rawPath))
	for _, rawPart := range rawPath {
		part := fmt.Sprint(rawPart)
		if strings.Contains(part, "/") {
			panic("address path parts cannot contain a slash")
		}
		parts = append(parts, part)
	}
	return Address{path: "/" + strings.Join(parts, "/")}
}

func (a Address) String() string {
	return a.path
}

// Parent returns this actor's parent address.
func (a Address) Parent() Address {
	return Address{path: path.Dir(a.path)}
}

// Child returns a new address that is a child of this address.
func (a Address) Child(child interface{}) Address {
	id := fmt.Sprint(child)
	if strings.Contains(id, "/") {
		panic("address path parts cannot contain a slash")
	}
	return Address{path: path.Join(a.path, id)}
}

// Local returns the local ID of the actor relative to the parent's ID space.
func (a Address) Local() string {
	return path.Base(a.path)
}

// IsRoot returns true if this address is the root of the actor system.
func (a Address) IsRoot() bool {
	return a == rootAddress
}

// MarshalJSON implements the json.Marshaler interface.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.path)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (a *Address) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &a.path)
}
