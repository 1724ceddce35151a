package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           routerd API
// @version         1.0
// @description     HTTP API for inference request routing and backend health state.
//
// @contact.name   routerd maintainers
// @contact.url    https://github.com/your-org/routerd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
