// Package pal defines the platform abstraction layer the port manager is
// built on: a polymorphic byte-stream handle plus a multi-wait primitive
// over a set of handles. Concrete providers live in subpackages
// (tcpstream, tlsstream, securestream); the port manager itself never
// imports net or crypto/tls directly.
package pal
