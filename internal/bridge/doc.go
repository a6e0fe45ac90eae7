// Package bridge publishes decoded link traffic to WebSocket clients.
//
// A Hub is registered as a dispatch handler; every delivery becomes one JSON
// Event sent to all connected clients on /ws. Browsers, notebooks or other
// tools can then follow odometry and lidar without owning the serial port.
package bridge
