// Package key provides IndexedDB keys, their order-preserving encoding and
// key path evaluation.
//
// This package depends only on domerr. Every other engine package imports
// key; the encoding produced here is what the backing store persists in
// primary key and index columns.
//
// Key design constraints:
//   - Encodings compare bytewise in key order (number < date < string <
//     binary < array), so SQL comparisons and ORDER BY work directly on them
//   - Strings order by UTF-16 code unit, not by UTF-8 byte
//   - NaN, nil, booleans, maps and structs are never keys
package key
