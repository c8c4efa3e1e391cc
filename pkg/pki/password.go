package pki

// PasswordSource supplies the password used to decrypt encrypted inputs.
// The boolean is false when no password is available.
type PasswordSource interface {
	Password() ([]byte, bool)
}

// Password is a static PasswordSource. An empty password is treated as
// unavailable.
type Password []byte

func (p Password) Password() ([]byte, bool) {
	return p, len(p) > 0
}

// PasswordFunc adapts a function, such as a terminal prompt, to a
// PasswordSource.
type PasswordFunc func() ([]byte, bool)

func (f PasswordFunc) Password() ([]byte, bool) {
	return f()
}

var NoPassword PasswordSource = Password(nil)

// Returns the password from a possibly nil source
func PasswordFrom(source PasswordSource) []byte {
	if source == nil {
		return nil
	}
	password, ok := source.Password()
	if !ok {
		return nil
	}
	return password
}
