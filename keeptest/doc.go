/*
Package keeptest provides mocks and helpers shared by the tests of all
packages: random party addresses and a manually driven clock.
*/
package keeptest
