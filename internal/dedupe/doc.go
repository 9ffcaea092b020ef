// Package dedupe suppresses repeated memory facts.
//
// Memory extraction runs over a sliding window of the room, so the same fact
// ("alice likes tea") tends to be extracted again on the next run. The Cache
// remembers normalized fact keys for a TTL and the router drops anything it
// has already broadcast.
package dedupe
