// Package scheduler holds the pure time arithmetic behind meeting allocation:
// anchoring session clock times to calendar days, cutting sessions into
// fixed-length slots, and detecting overlapping bookings.
package scheduler
