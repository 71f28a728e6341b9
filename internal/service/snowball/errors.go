package snowball

import "errors"

// ErrClaimLost is returned by Store.SetState when the tracker was not in
// the expected state.
var ErrClaimLost = errors.New("snowball tracker changed concurrently")
