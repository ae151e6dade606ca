package gatt

import (
	"encoding/binary"

	"github.com/user/ergo-blue/ble"
)

// CharacteristicHandles are the handles allocated for one characteristic.
// CCCD is zero when the characteristic neither notifies nor indicates.
type CharacteristicHandles struct {
	Declaration uint16
	Value       uint16
	CCCD        uint16
}

// ServiceHandles stores the handle range of a built service
type ServiceHandles struct {
	Service         uint16
	End             uint16
	Characteristics []CharacteristicHandles // declaration order
}

// AddService appends a primary service and its characteristics to the database
func (db *AttributeDatabase) AddService(svc ble.ServiceConfig) ServiceHandles {
	db.mu.Lock()
	defer db.mu.Unlock()

	info := ServiceHandles{
		Service: db.addLocked(UUIDPrimaryService, ble.WireBytes(svc.UUID), PermReadable),
	}

	for _, char := range svc.Characteristics {
		info.Characteristics = append(info.Characteristics, db.addCharacteristicLocked(char))
	}

	info.End = db.nextHandle - 1
	return info
}

func (db *AttributeDatabase) addCharacteristicLocked(char ble.CharacteristicConfig) CharacteristicHandles {
	var handles CharacteristicHandles

	// Declaration: [Properties: 1 byte][Value Handle: 2 bytes][UUID: 2 or 16 bytes]
	uuidBytes := ble.WireBytes(char.UUID)
	decl := make([]byte, 3+len(uuidBytes))
	decl[0] = byte(char.Properties)
	binary.LittleEndian.PutUint16(decl[1:3], db.nextHandle+1)
	copy(decl[3:], uuidBytes)

	handles.Declaration = db.addLocked(UUIDCharacteristic, decl, PermReadable)
	handles.Value = db.addLocked(char.UUID, char.Value, permissionsFor(char.Properties))

	if char.Properties&(ble.PropNotify|ble.PropIndicate) != 0 {
		handles.CCCD = db.addLocked(UUIDClientCharacteristicConfig, []byte{0x00, 0x00}, PermReadable|PermWritable)
	}
	return handles
}

// permissionsFor converts characteristic properties to attribute permissions
func permissionsFor(properties ble.Property) uint8 {
	var perms uint8
	if properties&ble.PropRead != 0 {
		perms |= PermReadable
	}
	if properties&(ble.PropWrite|ble.PropWriteNoResponse) != 0 {
		perms |= PermWritable
	}
	return perms
}
