package accessory

// ApplySurface makes acc expose exactly the desired services plus
// AccessoryInformation. Services already present are left untouched, so
// applying the same surface twice is a no-op.
func ApplySurface(acc *Accessory, desired []ServiceType) (added, removed []ServiceType) {
	want := map[ServiceType]bool{ServiceAccessoryInformation: true}
	for _, t := range desired {
		want[t] = true
	}

	for _, t := range acc.ServiceTypes() {
		if !want[t] && acc.RemoveService(t) {
			removed = append(removed, t)
		}
	}
	for _, t := range desired {
		if acc.Service(t) == nil {
			acc.AddService(t)
			added = append(added, t)
		}
	}
	return added, removed
}
