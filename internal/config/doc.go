// Package config defines Stroomweg's runtime configuration.
//
// Configuration is resolved in three layers: built-in defaults
// (Default), an optional JSON file (Load), and STROOMWEG_* environment
// variables (FromEnv), with later layers overriding earlier ones. A .env
// file in the working directory is honored for local development.
package config
