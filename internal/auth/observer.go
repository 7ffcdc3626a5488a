package auth

// Observer receives outcome notifications for metrics.
type Observer interface {
	Login(result string)
	Refresh(result string)
	Decision(strategy string, allowed bool)
}

type nopObserver struct{}

func (nopObserver) Login(string)          {}
func (nopObserver) Refresh(string)        {}
func (nopObserver) Decision(string, bool) {}
