package crawler

// SavedPage exposes savedPage to the external tests.
type SavedPage = savedPage
