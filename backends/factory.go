package backends

// GetSupportedBackends returns the IDs of every backend package that has
// registered itself via Register (normally "memory", "redis", "postgres",
// each via that package's init()).
func GetSupportedBackends() []string {
	names := make([]string, 0, len(registeredBackends))
	for name := range registeredBackends {
		names = append(names, name)
	}
	return names
}
