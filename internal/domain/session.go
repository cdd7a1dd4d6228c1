package domain

// Session is the login state persisted by the session store. All fields are
// kept as strings, the way the store holds them.
type Session struct {
	Token    string `json:"token" yaml:"token"`
	Username string `json:"username" yaml:"username"`
	Balance  string `json:"balance" yaml:"balance"`
}

// Authenticated reports whether a token is present.
func (s Session) Authenticated() bool {
	return s.Token != ""
}
