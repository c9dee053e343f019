// Package ir holds the record and value types shared by the revsync packages.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Records at the store boundary carry the serialized operation as raw
//     JSON; deserialization happens in the engine, never in a store driver
//   - Keys are revid-encoded strings; ordering is by key, never by timestamp
//   - WrittenAt is a server timestamp for display only
//   - All JSON tags use the short field names of the stored format
package ir
