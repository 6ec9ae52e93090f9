// Package algo implements grid path search for the AGV fleet: A* and
// uniform-cost search with a turn penalty, plus the breadth-first search that
// picks a siding for an agent that has to make way in a deadlock.
package algo
