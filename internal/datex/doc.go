// Package datex decodes NDW DATEX II payloads into typed measurement
// records.
//
// All decoders pull from the XML token stream and buffer at most one
// site element at a time, so memory use is bounded regardless of payload
// size. Individual malformed records are skipped and counted in
// DecodeStats; a bad record never aborts the payload. Unknown elements
// and attributes are ignored for forward compatibility, and the feed's
// -1 "no data" sentinel resolves to nil values.
package datex
