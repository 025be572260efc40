package content

import "math"

// MaxWindow bounds offset+limit of any page window. Daemons put both on the
// wire as 32-bit values.
const MaxWindow = math.MaxInt32

// PageWindow clamps a 1-based page and a positive page size so that the
// window ends within MaxWindow, and returns the window's offset. A page past
// that bound becomes the last page that fits.
func PageWindow(page, perPage int) (clampedPage, clampedPerPage, offset int) {
	perPage = min(max(perPage, 1), MaxWindow)
	lastPage := (MaxWindow-perPage)/perPage + 1
	page = min(max(page, 1), lastPage)
	return page, perPage, (page - 1) * perPage
}
