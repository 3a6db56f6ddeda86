// Package dedupe remembers which Matrix events were already handled so that
// replayed or re-delivered sync events are never relayed twice.
package dedupe
