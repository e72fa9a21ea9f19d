package probe

import "github.com/wardflux/netmon/pkg/types"

func testDevice(ip string) types.Device {
	return types.Device{
		ID:   types.DeviceID("dev-1"),
		IP:   ip,
		Name: "test-device",
	}
}
