package accessory

import "github.com/google/uuid"

// Namespace seeds every accessory identity; changing it orphans all cached accessories.
var Namespace = uuid.MustParse("6f1f5c1e-3a0b-5d8e-9c41-2b7f0a6d4e13")

// Identity derives the stable accessory UUID for a remote device id.
func Identity(deviceID string) string {
	return uuid.NewSHA1(Namespace, []byte(deviceID)).String()
}
