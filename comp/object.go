package comp

import "fmt"

// object is the common part of every protocol object: its
// connection-scoped ID and its interface name for tracing.
type object struct {
	id    uint32
	iface string
}

func (o *object) ID() uint32 {
	return o.id
}

func (o *object) SetID(id uint32) {
	o.id = id
}

func (o *object) Delete() {}

func (o *object) String() string {
	return fmt.Sprintf("%v@%v", o.iface, o.id)
}
