// Package rate implements Redis fixed-window throttles: INCR plus EXPIRE on
// the first hit of a window.
//
// Key prefixes:
//   - <prefix>:li:<ip>  failed logins per client IP
//   - <prefix>:re:<email>  reset requests per email
//   - <prefix>:ri:<ip>  reset requests per client IP
package rate
