// Package config provides the configuration of a minispider crawl: the
// spider configuration file given with -c, the optional settings file named
// by MINISPIDER_SETTINGS, and the seed URL list.
package config
