package httpapi

// server holds the handler methods; it is a thin receiver around Deps so
// handlers can be organised as methods without a package-level global.
type server struct {
	deps *Deps
}
