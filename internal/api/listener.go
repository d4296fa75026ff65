package api

// Listener receives the outcome of client requests. Methods run on the
// goroutine that completed the request.
type Listener interface {
	// ServiceFound reports a server answering status.php. url is the
	// request URL with "/status.php" removed.
	ServiceFound(url, version string)
	ServiceNotFound(reply *Reply)
	DirectoryExists(path string, reply *Reply)
	DirectoryCreated(reply *Reply)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) ServiceFound(string, string) {}
func (NopListener) ServiceNotFound(*Reply) {}
func (NopListener) DirectoryExists(string, *Reply) {}
func (NopListener) DirectoryCreated(*Reply) {}
