package config

// ConfigBackend is the platform-native settings store. macOS goes through
// the `defaults` CLI; everything else uses a JSON file in the XDG config
// directory.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
