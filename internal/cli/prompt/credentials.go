package prompt

// Credentials is the user part of an SMB2 logon.
type Credentials struct {
	Domain   string
	Username string
	Password string
}

// CompleteCredentials fills in what is missing. An empty username stays
// empty (anonymous); a named user without a password is asked for one.
// Nothing is asked when stdin is not a terminal.
func CompleteCredentials(c Credentials) (Credentials, error) {
	if c.Username == "" || c.Password != "" {
		return c, nil
	}
	if !interactive() {
		return c, ErrNotInteractive
	}

	label := "Password for " + c.Username
	if c.Domain != "" {
		label = "Password for " + c.Domain + `\` + c.Username
	}
	pw, err := Password(label)
	if err != nil {
		return c, err
	}
	c.Password = pw
	return c, nil
}
